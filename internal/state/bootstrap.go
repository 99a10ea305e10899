package state

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/google/uuid"
)

// Ephemeral port range used for the generated control listener.
const (
	ephemeralPortLow  = 49152
	ephemeralPortHigh = 65535
)

// Generate writes a fresh state file at path and returns the document it
// contains. The control secret is a random UUID, the control port is a random
// ephemeral port, and one example network is included so the operator has a
// template to edit. The daemon exits after generation; it never runs on an
// unedited document.
func Generate(path string) (Document, error) {
	secret := uuid.NewString()
	nick := "i" + secret[:7]

	doc := Document{
		Control: Control{
			Secret: secret,
			Host:   "0.0.0.0",
			Port:   ephemeralPortLow + rand.Intn(ephemeralPortHigh-ephemeralPortLow+1),
		},
		Networks: map[string]Network{
			"libera": {
				Host:     "irc.libera.chat",
				Port:     6667,
				Nick:     nick,
				User:     nick,
				Realname: nick,
				Channels: []string{"#" + nick},
			},
		},
	}

	if err := ensureDir(path); err != nil {
		return Document{}, fmt.Errorf("create state directory: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("encode state: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return Document{}, fmt.Errorf("write state file: %w", err)
	}
	return doc, nil
}
