package kafkax

import "strings"

// SplitBrokers parses the comma-separated KAFKA_BROKERS form into a list,
// dropping empty entries.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
