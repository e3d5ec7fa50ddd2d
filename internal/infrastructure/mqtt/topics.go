package mqtt

import "strings"

// TopicMatches reports whether a concrete topic matches a subscription
// filter, honouring the single-level (+) and multi-level (#) wildcards.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}

	return len(f) == len(t)
}
