// Package email delivers transactional messages.
//
// Sender is implemented by PostmarkSender for production and by DevSender,
// which writes each message to a local directory for inspection:
//
//	var sender email.Sender = email.NewDevSender("./tmp/emails")
//	if cfg.PostmarkServerToken != "" {
//		sender, err = email.NewPostmarkSender(cfg)
//	}
//
// Messages are validated before delivery; invalid input returns ErrInvalidMessage
// and delivery problems return ErrFailedToSendEmail.
package email
