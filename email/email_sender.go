package email

import (
	"fmt"

	"cityfix-analyze-pipeline/config"
	"cityfix-analyze-pipeline/models"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender delivers status-change notifications over SendGrid.
type EmailSender struct {
	config *config.Config
	client *sendgrid.Client
}

// NewEmailSender creates a new email sender.
func NewEmailSender(cfg *config.Config) *EmailSender {
	client := sendgrid.NewSendClient(cfg.SendGridAPIKey)
	return &EmailSender{
		config: cfg,
		client: client,
	}
}

// SendNotification sends one notification email to a single recipient.
func (e *EmailSender) SendNotification(recipient string, n *models.Notification) error {
	from := mail.NewEmail(e.config.SendGridFromName, e.config.SendGridFromEmail)
	to := mail.NewEmail(recipient, recipient)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = n.Title

	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", e.getEmailText(n)))
	message.AddContent(mail.NewContent("text/html", e.getEmailHTML(n)))

	response, err := e.client.Send(message)
	if err != nil {
		return err
	}

	log.Infof("Notification email sent to %s! Status: %d", recipient, response.StatusCode)
	return nil
}

func (e *EmailSender) getEmailText(n *models.Notification) string {
	return fmt.Sprintf("%s\n\n%s\n\nReport: %s\n", n.Title, n.Message, n.ReportID)
}

func (e *EmailSender) getEmailHTML(n *models.Notification) string {
	return fmt.Sprintf(`<html>
<body>
	<h2>%s</h2>
	<p>%s</p>
	<p>Report reference: <b>%s</b></p>
	<p>You receive these updates because you submitted this report. Reply STOP to opt out.</p>
</body>
</html>`, n.Title, n.Message, n.ReportID)
}
