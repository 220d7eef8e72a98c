package config

import (
	"fmt"
	"log/slog"
)

// InvalidFeedbackID marks an unused TX feedback slot.
const InvalidFeedbackID = 255

// CarrierKey returns the TX feedback mapping key of a channel.
func CarrierKey(ch int) string { return fmt.Sprintf(KeyPrefix+"carrier/channel%d", ch) }

// LoadCarrierPresence reports per channel whether any carrier is configured.
// A channel whose feedback ids are all InvalidFeedbackID has no carrier; a
// channel without a mapping key is treated as having one.
func LoadCarrierPresence(s Store, channels int, log *slog.Logger) ([]bool, error) {
	log = loggerOr(log)
	present := make([]bool, channels)
	for ch := range present {
		var ids []int
		ok, err := optional(s, CarrierKey(ch), &ids)
		if err != nil {
			return nil, err
		}
		if !ok {
			present[ch] = true
			continue
		}
		for _, id := range ids {
			if id != InvalidFeedbackID {
				present[ch] = true
				break
			}
		}
		if !present[ch] {
			log.Info("no valid carriers configured", "channel", ch, "key", CarrierKey(ch))
		}
	}
	return present, nil
}
