package models

// StatusSuccess is the certificate issuance status that triggers a forward.
// Comparison is exact and case-sensitive.
const StatusSuccess = "SUCCESS"

// CertificateMessage is the Kore node certificate status message consumed from RabbitMQ.
// All fields are optional; only Status and TransferHash drive the relay.
type CertificateMessage struct {
	MsgID           string `json:"msgId"`
	TransferHash    string `json:"transferHash"`
	Status          string `json:"status"`
	Brand           string `json:"brand"`
	EquipmentNumber string `json:"equipmentNumber"`
	Type            string `json:"type"`
}

// IsSuccess reports whether the message announces a successful certificate issuance.
func (m *CertificateMessage) IsSuccess() bool {
	return m.Status == StatusSuccess
}
