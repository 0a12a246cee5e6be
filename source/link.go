package source

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Link is a parsed message deep link. Exactly one of Username and ChannelID is set.
type Link struct {
	Username  string
	ChannelID int64
	TopicID   int
	MessageID int
}

func (l Link) String() string {
	if l.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", l.Username, l.MessageID)
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", l.ChannelID, l.MessageID)
}

type InvalidLinkError struct {
	Link   string
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid link %q: %s", e.Link, e.Reason)
}

func invalidLink(link, reason string) *InvalidLinkError {
	return &InvalidLinkError{Link: link, Reason: reason}
}

var linkHosts = map[string]struct{}{
	"t.me":         {},
	"www.t.me":     {},
	"telegram.me":  {},
	"telegram.dog": {},
}

// ParseLink parses public and private message links, including topic links and tg:// deep links.
func ParseLink(raw string) (Link, error) {
	link := strings.TrimSpace(raw)
	if link == "" {
		return Link{}, invalidLink(raw, "empty") //nolint:exhaustruct
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}

	u, err := url.Parse(link)
	if nil != err {
		return Link{}, invalidLink(raw, "malformed url") //nolint:exhaustruct
	}

	switch strings.ToLower(u.Scheme) {
	case "tg":
		return parseDeepLink(raw, u)
	case "http", "https":
	default:
		return Link{}, invalidLink(raw, "unsupported scheme") //nolint:exhaustruct
	}

	if _, ok := linkHosts[strings.ToLower(u.Host)]; !ok {
		return Link{}, invalidLink(raw, "unsupported host") //nolint:exhaustruct
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && parts[0] == "s" {
		parts = parts[1:]
	}

	var out Link
	if len(parts) > 0 && parts[0] == "c" {
		parts = parts[1:]
		if len(parts) < 2 {
			return Link{}, invalidLink(raw, "missing channel or message id") //nolint:exhaustruct
		}
		channelID, err := strconv.ParseInt(parts[0], 10, 64)
		if nil != err || channelID <= 0 {
			return Link{}, invalidLink(raw, "invalid channel id") //nolint:exhaustruct
		}
		out.ChannelID = channelID
	} else {
		if len(parts) < 2 {
			return Link{}, invalidLink(raw, "missing username or message id") //nolint:exhaustruct
		}
		if !isUsername(parts[0]) {
			return Link{}, invalidLink(raw, "invalid username") //nolint:exhaustruct
		}
		out.Username = parts[0]
	}

	ids := parts[1:]
	switch len(ids) {
	case 1:
	case 2:
		topicID, err := parseID(ids[0])
		if nil != err {
			return Link{}, invalidLink(raw, "invalid topic id") //nolint:exhaustruct
		}
		out.TopicID = topicID
		ids = ids[1:]
	default:
		return Link{}, invalidLink(raw, "unexpected path segments") //nolint:exhaustruct
	}

	msgID, err := parseID(ids[0])
	if nil != err {
		return Link{}, invalidLink(raw, "invalid message id") //nolint:exhaustruct
	}
	out.MessageID = msgID
	return out, nil
}

func parseDeepLink(raw string, u *url.URL) (Link, error) {
	q := u.Query()
	post, err := parseID(q.Get("post"))
	if nil != err {
		return Link{}, invalidLink(raw, "invalid post id") //nolint:exhaustruct
	}

	switch strings.ToLower(u.Host) {
	case "resolve":
		domain := q.Get("domain")
		if !isUsername(domain) {
			return Link{}, invalidLink(raw, "invalid domain") //nolint:exhaustruct
		}
		return Link{Username: domain, ChannelID: 0, TopicID: 0, MessageID: post}, nil
	case "privatepost":
		channelID, err := strconv.ParseInt(q.Get("channel"), 10, 64)
		if nil != err || channelID <= 0 {
			return Link{}, invalidLink(raw, "invalid channel id") //nolint:exhaustruct
		}
		return Link{Username: "", ChannelID: channelID, TopicID: 0, MessageID: post}, nil
	default:
		return Link{}, invalidLink(raw, "unsupported deep link") //nolint:exhaustruct
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if nil != err {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive, got %d", id)
	}
	return id, nil
}

func isUsername(s string) bool {
	if len(s) < 4 || len(s) > 32 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9', r == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// FindLink returns the first token of text that parses as a message link.
func FindLink(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, "<>()[]\"'.,")
		if _, err := ParseLink(field); nil == err {
			return field, true
		}
	}
	return "", false
}
