package remote

import "time"

type ObjectInfo struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified time.Time         `json:"last_modified,omitzero"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Object struct {
	ObjectInfo
	Body []byte `json:"body"`
}

type ObjectList struct {
	Bucket string   `json:"bucket"`
	Prefix string   `json:"prefix,omitempty"`
	Keys   []string `json:"keys"`
}

// Deleted is returned by delete. S3 reports success for absent keys too.
type Deleted struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type Ciphertext struct {
	KeyID string `json:"key_id"`
	Blob  []byte `json:"ciphertext"`
}

type Plaintext struct {
	KeyID     string `json:"key_id"`
	Plaintext []byte `json:"plaintext"`
}

type KeyDescription struct {
	KeyID       string `json:"key_id"`
	ARN         string `json:"arn,omitempty"`
	State       string `json:"state"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

type DataKey struct {
	KeyID      string `json:"key_id"`
	Plaintext  []byte `json:"plaintext"`
	Ciphertext []byte `json:"ciphertext"`
}
