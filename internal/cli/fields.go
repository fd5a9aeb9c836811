package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// parseFieldArgs splits free-form command arguments into positionals and
// --field=value pairs. "--field value" and bare "field=value" are accepted
// too. Values that look like JSON arrays or objects are decoded. The global
// flags are applied as a side effect because commands using this parser
// disable cobra's own flag parsing.
func parseFieldArgs(args []string) (positional []string, fields map[string]any, err error) {
	fields = make(map[string]any)
	for i := 0; i < len(args); i++ {
		arg := args[i]

		var key, value string
		switch {
		case strings.HasPrefix(arg, "--"):
			key = strings.TrimPrefix(arg, "--")
			if k, v, ok := strings.Cut(key, "="); ok {
				key, value = k, v
			} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				i++
				value = args[i]
			} else {
				value = "true"
			}
		case strings.Contains(arg, "=") && len(positional) > 0:
			key, value, _ = strings.Cut(arg, "=")
		default:
			positional = append(positional, arg)
			continue
		}

		key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
		if key == "" {
			return nil, nil, fmt.Errorf("invalid argument: %s", arg)
		}
		switch key {
		case "config":
			cfgFile = value
			continue
		case "log_level":
			logLevel = value
			continue
		case "env_file":
			envFiles = append(envFiles, value)
			continue
		}
		fields[key] = decodeFieldValue(value)
	}
	return positional, fields, nil
}

func decodeFieldValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return value
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
