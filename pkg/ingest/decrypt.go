package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/billsync/pkg/model"
)

// Decrypter turns a vendor's stored credential blob into connector credentials.
type Decrypter interface {
	Decrypt(ctx context.Context, vendor model.Vendor) (model.Credentials, error)
}

// JSONDecrypter reads credentials stored as a plain JSON object. Non-string
// scalars are rendered as text.
type JSONDecrypter struct{}

// Decrypt implements Decrypter.
func (JSONDecrypter) Decrypt(_ context.Context, vendor model.Vendor) (model.Credentials, error) {
	blob := strings.TrimSpace(vendor.Credentials)
	if blob == "" {
		return model.Credentials{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(blob)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("credentials are not a JSON object: %w", err)
	}

	creds := make(model.Credentials, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case string:
			creds[k] = x
		case json.Number:
			creds[k] = x.String()
		case bool:
			creds[k] = fmt.Sprint(x)
		case nil:
		default:
			return nil, fmt.Errorf("credential %q must be a scalar", k)
		}
	}
	return creds, nil
}
