// Package email sends transactional mail through Amazon SES. Each family
// has its own sender persona and template copy; unknown families fall
// back to a generic template.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// api is the slice of the SES client the mail client needs. Tests swap in
// a fake.
type api interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Client struct {
	ses  api
	from string
}

type Option func(*Client)

// WithAPI overrides the SES API client. Tests only.
func WithAPI(a api) Option {
	return func(c *Client) { c.ses = a }
}

func NewClient(cfg aws.Config, from string, opts ...Option) *Client {
	c := &Client{
		ses:  sesv2.NewFromConfig(cfg),
		from: from,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result reports the outcome of a send. Err is set when Success is false.
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Template is the per-family sender persona and copy.
type Template struct {
	DisplayName string
	SenderName  string
	Subject     string
	Greeting    string
}

var familyTemplates = map[string]Template{
	"bull": {
		DisplayName: "Bull Family",
		SenderName:  "The Bull Family Archive",
		Subject:     "Your Bull family history awaits",
		Greeting:    "Welcome to the Bull family archive",
	},
	"north": {
		DisplayName: "North Family",
		SenderName:  "The North Family Archive",
		Subject:     "Your North family history awaits",
		Greeting:    "Welcome to the North family archive",
	},
	"klingenberg": {
		DisplayName: "Klingenberg Family",
		SenderName:  "The Klingenberg Family Archive",
		Subject:     "Your Klingenberg family history awaits",
		Greeting:    "Welcome to the Klingenberg family archive",
	},
	"herrman": {
		DisplayName: "Herrman Family",
		SenderName:  "The Herrman Family Archive",
		Subject:     "Your Herrman family history awaits",
		Greeting:    "Welcome to the Herrman family archive",
	},
}

// FamilyInfo returns the template for a family, falling back to a
// generated one for families without bespoke copy.
func FamilyInfo(family string) Template {
	if t, ok := familyTemplates[family]; ok {
		return t
	}
	name := titleCase(family)
	return Template{
		DisplayName: name + " Family",
		SenderName:  "The " + name + " Family Archive",
		Subject:     "Your " + name + " family history awaits",
		Greeting:    "Welcome to the " + name + " family archive",
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SendMagicLink mails a sign-in link together with the invitation code it
// was minted for.
func (c *Client) SendMagicLink(ctx context.Context, to, family, invitationCode, magicLink, description string) Result {
	tmpl := FamilyInfo(family)

	var b strings.Builder
	fmt.Fprintf(&b, "%s.\n\n", tmpl.Greeting)
	if description != "" {
		fmt.Fprintf(&b, "%s\n\n", description)
	}
	fmt.Fprintf(&b, "Sign in with one click:\n%s\n\n", magicLink)
	fmt.Fprintf(&b, "Or enter this invitation code after signing in with Google:\n%s\n\n", invitationCode)
	b.WriteString("The link expires in 30 minutes. If you were not expecting this email you can ignore it.\n")

	return c.send(ctx, to, tmpl, tmpl.Subject, b.String())
}

// SendVerification mails an email-verification link.
func (c *Client) SendVerification(ctx context.Context, to, family, verifyLink string) Result {
	tmpl := FamilyInfo(family)

	var b strings.Builder
	fmt.Fprintf(&b, "%s.\n\n", tmpl.Greeting)
	fmt.Fprintf(&b, "Confirm your email address to unlock access:\n%s\n\n", verifyLink)
	b.WriteString("The link expires in 30 minutes. If you were not expecting this email you can ignore it.\n")

	return c.send(ctx, to, tmpl, "Confirm your email address", b.String())
}

func (c *Client) send(ctx context.Context, to string, tmpl Template, subject, body string) Result {
	from := fmt.Sprintf("%s <%s>", tmpl.SenderName, c.from)
	out, err := c.ses.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return Result{Err: fmt.Errorf("send email: %w", err)}
	}
	return Result{Success: true, MessageID: aws.ToString(out.MessageId)}
}
