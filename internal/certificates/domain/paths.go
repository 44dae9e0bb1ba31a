package certificates

import "fmt"

// TemplateObjectKey is where an uploaded template original is stored.
func TemplateObjectKey(ownerID, templateID string, format FileFormat) string {
	return fmt.Sprintf("users/%s/templates/%s-original.%s", ownerID, templateID, format)
}

// DataSourceObjectKey is where an uploaded data-source original is stored.
func DataSourceObjectKey(ownerID, dataSourceID string, format FileFormat) string {
	return fmt.Sprintf("users/%s/data-sources/%s-original.%s", ownerID, dataSourceID, format)
}

// CertificatePrefix is the folder holding every generated document of a certificate.
func CertificatePrefix(ownerID, certificateID string) string {
	return fmt.Sprintf("users/%s/certificates/%s/", ownerID, certificateID)
}

// GeneratedObjectKey is where the worker stores the document generated for a row.
func GeneratedObjectKey(ownerID, certificateID, rowID string) string {
	return CertificatePrefix(ownerID, certificateID) + rowID + ".pdf"
}
