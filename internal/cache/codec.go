package cache

import (
	"bytes"
	"encoding/gob"
)

func encodeEntry(ent Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) (Entry, error) {
	var ent Entry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ent); err != nil {
		return Entry{}, err
	}
	return ent, nil
}
