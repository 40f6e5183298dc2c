package flow

import "context"

// ConsentMessage asks the recipient to opt in to iMessage delivery.
const ConsentMessage = "📱 IMSMS Consent Request\n\n" +
	"Hello, this is TEAMPLAYER.\n\n" +
	"We would like to send you important information via iMessage.\n\n" +
	"Please reply:\n" +
	"• \"START\" to opt in\n" +
	"• \"STOP\" to opt out\n\n" +
	"You can withdraw your consent at any time.\n" +
	"This message complies with applicable regulations."

// DemoMessage is sent once the recipient granted consent.
const DemoMessage = "🎉 IMSMS Demo Message\n\n" +
	"Hello! This is TEAMPLAYER.\n\n" +
	"✨ This is a premium message sent via iMessage.\n\n" +
	"📱 Key Features of IMSMS:\n" +
	"• Rich media support (images, videos, files)\n" +
	"• Two-way communication\n" +
	"• Real-time delivery confirmation\n" +
	"• 90% cost savings vs SMS\n\n" +
	"💼 Enterprise bulk messaging available.\n" +
	"Learn more at https://imsms.im\n\n" +
	"Thank you!"

// StaticGenerator returns a fixed body.
type StaticGenerator struct {
	Body string
}

// Generate returns the static body.
func (s *StaticGenerator) Generate(ctx context.Context, req MessageRequest) (string, error) {
	return s.Body, nil
}
