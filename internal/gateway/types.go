package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MediaKind is the kind of attachment carried by a message
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaAudio    MediaKind = "audio"
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// RemoteMessage is a message as reported by the gateway
type RemoteMessage struct {
	ID        string
	FromMe    bool
	Timestamp time.Time
	Text      string
	MediaKind MediaKind
	Caption   string
	MimeType  string
}

// IsMedia reports whether the message carries an attachment
func (m RemoteMessage) IsMedia() bool {
	return m.MediaKind != MediaNone
}

// Media is a downloaded attachment
type Media struct {
	MimeType string
	Data     []byte
}

// MessageKey identifies a message on the channel
type MessageKey struct {
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	RemoteJID string `json:"remoteJid"`
}

// MediaContent is the metadata of an attachment
type MediaContent struct {
	Caption  string `json:"caption"`
	MimeType string `json:"mimetype"`
}

// MessageContent is the payload of a message, one field set per kind
type MessageContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage    *MediaContent `json:"audioMessage"`
	ImageMessage    *MediaContent `json:"imageMessage"`
	DocumentMessage *MediaContent `json:"documentMessage"`
	VideoMessage    *MediaContent `json:"videoMessage"`
}

// Text returns the text body, if any
func (m *MessageContent) Text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

// Media returns the attachment kind and its metadata
func (m *MessageContent) Media() (MediaKind, *MediaContent) {
	if m == nil {
		return MediaNone, nil
	}
	switch {
	case m.AudioMessage != nil:
		return MediaAudio, m.AudioMessage
	case m.ImageMessage != nil:
		return MediaImage, m.ImageMessage
	case m.DocumentMessage != nil:
		return MediaDocument, m.DocumentMessage
	case m.VideoMessage != nil:
		return MediaVideo, m.VideoMessage
	}
	return MediaNone, nil
}

// unixTime decodes a timestamp sent either as a number or a numeric string
type unixTime int64

func (t *unixTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var f float64
		if ferr := json.Unmarshal([]byte(s), &f); ferr != nil {
			return err
		}
		n = int64(f)
	}
	*t = unixTime(n)
	return nil
}

// Record is one message entry of the gateway APIs and webhook payloads
type Record struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp unixTime        `json:"messageTimestamp"`
	Message          *MessageContent `json:"message"`
}

// Remote converts the record into a RemoteMessage
func (r Record) Remote() RemoteMessage {
	kind, media := r.Message.Media()
	m := RemoteMessage{
		ID:        r.Key.ID,
		FromMe:    r.Key.FromMe,
		Timestamp: time.Unix(int64(r.MessageTimestamp), 0).UTC(),
		Text:      r.Message.Text(),
		MediaKind: kind,
	}
	if media != nil {
		m.Caption = media.Caption
		m.MimeType = media.MimeType
	}
	return m
}

type findMessagesResponse struct {
	Messages struct {
		Total   int      `json:"total"`
		Records []Record `json:"records"`
	} `json:"messages"`
}
