package domain

type UpdateManifest struct {
	Version string
	Url     string
	// Digest is the hex blake3 digest of the image, empty when not advertised.
	Digest string
}

type OTAPhase string

const (
	OTA_PHASE_DOWNLOADING OTAPhase = "downloading"
	OTA_PHASE_VERIFYING   OTAPhase = "verifying"
	OTA_PHASE_READY       OTAPhase = "ready"
	OTA_PHASE_ABORTED     OTAPhase = "aborted"
)

// OTASession lives only for the duration of one update attempt.
type OTASession struct {
	Id           string
	Version      string
	ExpectedSize int64
	BytesWritten int64
	Phase        OTAPhase
}
