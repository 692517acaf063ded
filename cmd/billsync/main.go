package main

import "github.com/ogulcanaydogan/billsync/internal/cli"

func main() {
	cli.Execute()
}
