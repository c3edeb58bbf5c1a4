package provenance

import (
	"encoding/json"
	"fmt"
)

// argsVersion is bumped whenever the envelope layout changes. Consumers of
// historical transactions dispatch on it instead of on call signatures.
const argsVersion = 1

type argsEnvelope struct {
	V      int            `json:"v"`
	Params map[string]any `json:"params"`
}

// EncodeArgs serializes the keyword arguments of an operation call into the
// stable envelope stored on a Transaction. Nil values are kept so a replay
// can distinguish "omitted" from "empty".
func EncodeArgs(params map[string]any) ([]byte, error) {
	raw, err := json.Marshal(argsEnvelope{V: argsVersion, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode transaction args: %w", err)
	}
	return raw, nil
}

// DecodeArgs restores the argument map recorded by EncodeArgs.
func DecodeArgs(raw []byte) (map[string]any, error) {
	var env argsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode transaction args: %w", err)
	}
	if env.V != argsVersion {
		return nil, fmt.Errorf("decode transaction args: unsupported version %d", env.V)
	}
	return env.Params, nil
}
