package notifications

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"convertd/internal/services"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

var pages = template.Must(template.New("mail").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).ParseFS(templateFS, "templates/*.html"))

var textPages = texttemplate.Must(texttemplate.New("mail").Funcs(texttemplate.FuncMap{
	"upper": strings.ToUpper,
}).ParseFS(templateFS, "templates/*.txt"))

// Message is one rendered outbound mail. Text is the plain alternative of
// HTML.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type pageData struct {
	AppURL string
	Data   any
}

// Render decodes job's payload for its kind and produces the message.
func Render(job Job, appURL string) (Message, error) {
	recipient := strings.TrimSpace(job.Recipient)
	if recipient == "" {
		return Message{}, services.Wrap(services.ErrValidation, "notify", "render", "recipient is required", nil)
	}

	var (
		subject string
		data    any
	)
	switch job.Kind {
	case KindConversionComplete:
		var p ConversionComplete
		if err := decodePayload(job, &p); err != nil {
			return Message{}, err
		}
		subject = fmt.Sprintf("Your file \"%s\" is ready", p.FileName)
		data = p
	case KindConversionFailed:
		var p ConversionFailed
		if err := decodePayload(job, &p); err != nil {
			return Message{}, err
		}
		subject = fmt.Sprintf("Conversion failed: \"%s\"", p.FileName)
		data = p
	case KindScheduledJobRan:
		var p ScheduledJobRan
		if err := decodePayload(job, &p); err != nil {
			return Message{}, err
		}
		subject = "Scheduled job ran: " + p.JobName
		data = p
	case KindWeeklyDigest:
		var p WeeklyDigest
		if err := decodePayload(job, &p); err != nil {
			return Message{}, err
		}
		subject = "Your weekly LyFiles summary"
		data = p
	default:
		return Message{}, services.Wrap(services.ErrValidation, "notify", "render", fmt.Sprintf("unknown notification kind %q", job.Kind), nil)
	}

	var body, text bytes.Buffer
	page := pageData{AppURL: strings.TrimRight(appURL, "/"), Data: data}
	if err := pages.ExecuteTemplate(&body, string(job.Kind)+".html", page); err != nil {
		return Message{}, services.Wrap(services.ErrConfiguration, "notify", "render", string(job.Kind), err)
	}
	if err := textPages.ExecuteTemplate(&text, string(job.Kind)+".txt", page); err != nil {
		return Message{}, services.Wrap(services.ErrConfiguration, "notify", "render", string(job.Kind)+" text", err)
	}
	return Message{To: recipient, Subject: subject, HTML: body.String(), Text: text.String()}, nil
}

func decodePayload(job Job, v any) error {
	if len(job.Payload) == 0 {
		return services.Wrap(services.ErrValidation, "notify", "decode", string(job.Kind)+" payload is empty", nil)
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return services.Wrap(services.ErrValidation, "notify", "decode", string(job.Kind), err)
	}
	return nil
}
