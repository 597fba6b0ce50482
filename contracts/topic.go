package contracts

import "strings"

// MaxTopicLen bounds formatted topic names. Device topics follow the form
// device/{client_id}/{subtopic} where the client ID is around 40 characters.
const MaxTopicLen = 64

// FormatTopic builds a device topic of the form device/{clientID}/{subtopic}.
// MQTT topic names must not contain wildcard (+, #) or NUL characters.
func FormatTopic(clientID, subtopic string) (string, error) {
	if !validTopicPart(clientID) || !validTopicPart(subtopic) {
		return "", ErrTopicInvalid
	}
	topic := "device/" + clientID + "/" + subtopic
	if len(topic) > MaxTopicLen {
		return "", ErrTopicTooLong
	}
	return topic, nil
}

// ValidateTopic checks a producer-supplied topic against the same rules.
func ValidateTopic(topic string) error {
	if !validTopicPart(topic) {
		return ErrTopicInvalid
	}
	if len(topic) > MaxTopicLen {
		return ErrTopicTooLong
	}
	return nil
}

func validTopicPart(s string) bool {
	return s != "" && !strings.ContainsAny(s, "+#\x00")
}
