package tools

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// RepairArguments returns args unchanged when it is valid JSON, otherwise
// a repaired copy. Models regularly emit trailing commas or unescaped
// quotes in large XML arguments.
func RepairArguments(args string) (string, error) {
	if json.Valid([]byte(args)) {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(args)
	if err != nil {
		return "", fmt.Errorf("repair tool arguments: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("repair tool arguments: still invalid after repair")
	}
	return repaired, nil
}

// DecodeArgs unmarshals tool arguments into v, repairing malformed JSON first.
func DecodeArgs(args string, v any) error {
	fixed, err := RepairArguments(args)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
