// Package webhook implements the Webhook Receiver: Meta's GET challenge
// verification and POST envelope intake, route resolution, mapping
// application, DeliveryEvent creation and a fire-and-observe handoff to
// the Delivery Worker. Grounded on the teacher's bothandler.Handler
// (HandleWebhook/HandleUpdate dispatch), restructured around Meta's
// envelope instead of a Telegram models.Update.
package webhook

// Envelope is Meta's top-level POST body for both WhatsApp Business
// Account and Page/leadgen callbacks.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one item of the envelope's entry array.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one change within an Entry. Field is only present for Page
// objects (e.g. "leadgen"); WhatsApp entries carry their payload directly
// under Value without a Field discriminator.
type Change struct {
	Field string                 `json:"field"`
	Value map[string]interface{} `json:"value"`
}
