package config

import "os"

// ExpandEnv substitutes ${VAR} / $VAR references in raw YAML bytes before
// parsing, so secrets (API keys, database passwords) never need to live in
// the config file itself.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
