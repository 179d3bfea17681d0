package broker

import "strings"

// topicMatch implements AMQP topic-exchange pattern matching: pattern
// words are separated by '.'; '*' matches exactly one word; '#' matches
// zero or more words (including crossing further '.' separators).
func topicMatch(pattern, routingKey string) bool {
	patternWords := strings.Split(pattern, ".")
	keyWords := strings.Split(routingKey, ".")
	return matchWords(patternWords, keyWords)
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	head := pattern[0]
	switch head {
	case "#":
		if matchWords(pattern[1:], key) {
			return true
		}
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern, key[1:])
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	}
}
