package telephony

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/skypro1111/call-translator/internal/call"
)

// Response is a TwiML document
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say     `xml:"Say,omitempty"`
	Connect *Connect `xml:"Connect,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Say speaks text to the caller
type Say struct {
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

// Connect hands the call's audio to a bidirectional media stream
type Connect struct {
	Stream Stream `xml:"Stream"`
}

// Stream is the media stream target of Connect
type Stream struct {
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter,omitempty"`
}

// Parameter is a custom parameter echoed back in the start message
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Hangup ends the call
type Hangup struct{}

// Marshal renders the document with an XML header
func (r Response) Marshal() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal TwiML: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// ConnectStream returns TwiML that streams the call to streamURL
func ConnectStream(streamURL string, params ...Parameter) ([]byte, error) {
	return Response{Connect: &Connect{Stream: Stream{URL: streamURL, Parameters: params}}}.Marshal()
}

// Reject returns TwiML that tells the caller the call cannot be served and hangs up
func Reject(message string) ([]byte, error) {
	return Response{Say: &Say{Text: message}, Hangup: &Hangup{}}.Marshal()
}

// Endpoints builds the public URLs the telephony provider calls back on
type Endpoints struct {
	Host     string // public host, optionally with port
	Insecure bool   // ws:// and http:// instead of wss:// and https://
}

// StreamURL is the media stream URL of one role of a session
func (e Endpoints) StreamURL(role call.Role, sessionID string) string {
	scheme := "wss"
	if e.Insecure {
		scheme = "ws"
	}
	u := url.URL{Scheme: scheme, Host: e.Host, Path: "/voice/" + role.String() + "/" + sessionID}
	return u.String()
}

// StatusCallbackURL is the URL that receives the operator call status
func (e Endpoints) StatusCallbackURL(sessionID string) string {
	scheme := "https"
	if e.Insecure {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: e.Host, Path: "/voice/callback/" + sessionID}
	return u.String()
}
