package httpserver

import (
	"encoding/json"
	"io"
)

// decodeJSON decodes a JSON request body into dest, keeping numbers as json.Number.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return decoder.Decode(dest)
}
