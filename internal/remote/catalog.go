// Package remote declares the services and operations auditgate can run, the
// parameter schemas the executor validates them against and the shapes of
// their results. Connectors in internal/infra implement them.
package remote

import (
	"slices"
	"time"

	"github.com/spounge-ai/auditgate/internal/executor"
)

const (
	ServiceStorage = "storage"
	ServiceKMS     = "kms"
)

const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
	OpHead   = "head"
	OpList   = "list"

	OpEncrypt         = "encrypt"
	OpDecrypt         = "decrypt"
	OpDescribeKey     = "describe_key"
	OpGenerateDataKey = "generate_data_key"
)

// DefaultDataKeyBytes is the data key size when generate_data_key omits bytes.
const DefaultDataKeyBytes = 32

var objectParams = []executor.Param{
	{Name: "bucket", Type: executor.TypeString, Required: true, Rules: "s3_bucket"},
	{Name: "key", Type: executor.TypeString, Required: true, Rules: "min=1,max=1024"},
}

var storageSchemas = []executor.Schema{
	{
		Operation: OpPut,
		Params: append(slices.Clone(objectParams),
			executor.Param{Name: "body", Type: executor.TypeBytes},
			executor.Param{Name: "content_type", Type: executor.TypeString, Rules: "omitempty,max=255"},
			executor.Param{Name: "metadata", Type: executor.TypeStringMap},
		),
		ResourceParams: []string{"bucket", "key"},
	},
	{Operation: OpGet, Params: objectParams, ResourceParams: []string{"bucket", "key"}},
	{Operation: OpDelete, Params: objectParams, ResourceParams: []string{"bucket", "key"}},
	{Operation: OpHead, Params: objectParams, ResourceParams: []string{"bucket", "key"}},
	{
		Operation: OpList,
		Params: []executor.Param{
			{Name: "bucket", Type: executor.TypeString, Required: true, Rules: "s3_bucket"},
			{Name: "prefix", Type: executor.TypeString, Rules: "max=1024"},
			{Name: "max_keys", Type: executor.TypeInt, Rules: "min=1,max=1000"},
		},
		ResourceParams: []string{"bucket", "prefix"},
		Timeout:        time.Minute,
	},
}

var kmsSchemas = []executor.Schema{
	{
		Operation: OpEncrypt,
		Params: []executor.Param{
			{Name: "key_id", Type: executor.TypeString, Required: true, Rules: "kms_key_ref"},
			{Name: "plaintext", Type: executor.TypeBytes, Required: true, Rules: "min=1,max=4096"},
			{Name: "context", Type: executor.TypeStringMap},
		},
		ResourceParams: []string{"key_id"},
	},
	{
		Operation: OpDecrypt,
		Params: []executor.Param{
			{Name: "ciphertext", Type: executor.TypeBytes, Required: true, Rules: "min=1,max=6144"},
			{Name: "key_id", Type: executor.TypeString, Rules: "omitempty,kms_key_ref"},
			{Name: "context", Type: executor.TypeStringMap},
		},
		ResourceParams: []string{"key_id"},
	},
	{
		Operation: OpDescribeKey,
		Params: []executor.Param{
			{Name: "key_id", Type: executor.TypeString, Required: true, Rules: "kms_key_ref"},
		},
		ResourceParams: []string{"key_id"},
	},
	{
		Operation: OpGenerateDataKey,
		Params: []executor.Param{
			{Name: "key_id", Type: executor.TypeString, Required: true, Rules: "kms_key_ref"},
			{Name: "bytes", Type: executor.TypeInt, Rules: "min=16,max=1024"},
			{Name: "context", Type: executor.TypeStringMap},
		},
		ResourceParams: []string{"key_id"},
	},
}

// Register adds the schemas of every supported service to c.
func Register(c *executor.Catalog) {
	c.Register(ServiceStorage, storageSchemas...)
	c.Register(ServiceKMS, kmsSchemas...)
}

// Supported reports whether service has a connector implementation.
func Supported(service string) bool {
	return service == ServiceStorage || service == ServiceKMS
}
