package contact

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/darleyabbeyfc/contact-gateway/internal/mailer"
)

const notificationTitle = "New contact form submission"

var templateFuncs = template.FuncMap{
	"escape": EscapeHTML,
	"nl2br":  func(s string) string { return strings.ReplaceAll(s, "\n", "<br>") },
}

// htmlTemplate receives raw values; escape and nl2br are applied here so
// the plain text body stays unescaped.
var htmlTemplate = template.Must(template.New("contact").Funcs(templateFuncs).Parse(`<h2>` + notificationTitle + `</h2>
<p><strong>Name:</strong> {{escape .Name}}</p>
<p><strong>Email:</strong> {{escape .Email}}</p>
<p><strong>Topic:</strong> {{escape .Topic}}</p>
<p><strong>Page:</strong> {{escape .OriginPage}}</p>
<p><strong>IP:</strong> {{escape .ClientID}}</p>
<p><strong>Message:</strong></p>
<p>{{escape .Message | nl2br}}</p>
`))

var ackTemplate = template.Must(template.New("ack").Funcs(templateFuncs).Parse(`<h2>Hi {{escape .Name}},</h2>
<p>Thank you for reaching out to {{escape .Org}}. We've received your message and will get back to you soon.</p>
<hr>
<p><strong>Your message:</strong></p>
<p><strong>Topic:</strong> {{escape .Topic}}</p>
<p><strong>Message:</strong></p>
<p>{{escape .Message | nl2br}}</p>
<hr>
<p>Best regards,<br>{{escape .Org}}</p>
`))

// Composer builds the staff notification and the optional submitter
// receipt for a submission.
type Composer struct {
	From          string
	FromName      string
	To            string
	SubjectPrefix string
	OrgName       string
	AckSubject    string
}

// Compose renders sub into an envelope addressed to the staff inbox with
// Reply-To set to the submitter.
func (c Composer) Compose(sub Submission, clientID string) mailer.Envelope {
	return mailer.Envelope{
		From:     c.From,
		FromName: c.FromName,
		To:       c.To,
		ReplyTo:  sub.Email,
		Subject:  c.subject(sub.Topic),
		TextBody: textBody(sub, clientID),
		HTMLBody: htmlBody(sub, clientID),
	}
}

func (c Composer) subject(topic string) string {
	if c.SubjectPrefix == "" {
		return topic
	}
	return c.SubjectPrefix + " " + topic
}

func textBody(sub Submission, clientID string) string {
	return strings.Join([]string{
		notificationTitle,
		"",
		"Name: " + sub.Name,
		"Email: " + sub.Email,
		"Topic: " + sub.Topic,
		"Page: " + sub.OriginPage,
		"IP: " + clientID,
		"",
		"Message:",
		sub.Message,
	}, "\n")
}

func htmlBody(sub Submission, clientID string) string {
	data := struct {
		Submission
		ClientID string
	}{sub, clientID}

	var b bytes.Buffer
	// The template is fixed and the data is plain strings; Execute cannot fail.
	_ = htmlTemplate.Execute(&b, data)
	return b.String()
}

// Acknowledge renders the receipt sent back to the submitter. Replies go to
// the staff inbox.
func (c Composer) Acknowledge(sub Submission) mailer.Envelope {
	subject := c.AckSubject
	if subject == "" {
		subject = "We received your message"
		if c.OrgName != "" {
			subject += " | " + c.OrgName
		}
	}
	org := c.OrgName
	if org == "" {
		org = "us"
	}

	text := strings.Join([]string{
		"Hi " + sub.Name + ",",
		"",
		"Thank you for reaching out to " + org + ". We've received your message and will get back to you soon.",
		"",
		"Topic: " + sub.Topic,
		"Message:",
		sub.Message,
	}, "\n")

	data := struct {
		Submission
		Org string
	}{sub, org}
	var b bytes.Buffer
	_ = ackTemplate.Execute(&b, data)

	return mailer.Envelope{
		From:     c.From,
		FromName: c.FromName,
		To:       sub.Email,
		ReplyTo:  c.To,
		Subject:  subject,
		TextBody: text,
		HTMLBody: b.String(),
	}
}
