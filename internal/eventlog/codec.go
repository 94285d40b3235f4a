package eventlog

import (
	"encoding/json"
	"fmt"

	"ledger-engine/internal/domain/account"
)

// EncodeEvent serialises a domain event to its journal body.
func EncodeEvent(e *account.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", account.EventTypeName, err)
	}
	return data, nil
}

// DecodeEvent deserialises a journal body back into a domain event.
func DecodeEvent(data []byte) (*account.Event, error) {
	var e account.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", account.EventTypeName, err)
	}
	return &e, nil
}
