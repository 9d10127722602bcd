package gateway

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// decodeBody fills dst from a JSON or URL-encoded form body. Form keys with
// dots address nested objects, so metadata.deviceName fills Metadata.DeviceName.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}

	if mediaType != contentTypeForm {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}

		return nil
	}

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}

	data, err := json.Marshal(formObject(r.PostForm))
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode form: %w", err)
	}

	return nil
}

// formObject nests dotted keys and keeps the first value of each key.
// A key that is both a leaf and a parent resolves to the nested object.
func formObject(form url.Values) map[string]any {
	out := make(map[string]any, len(form))

	for key, values := range form {
		if len(values) == 0 {
			continue
		}

		parts := strings.Split(key, ".")
		node := out

		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}

			node = child
		}

		if _, nested := node[parts[len(parts)-1]].(map[string]any); !nested {
			node[parts[len(parts)-1]] = values[0]
		}
	}

	return out
}
