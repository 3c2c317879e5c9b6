package types

// TransactionDescriptor is one transaction a task type allows
type TransactionDescriptor struct {
	Label string `json:"label" yaml:"label" validate:"required"`
}

// TaskTypeInput is the task type body sent on creation
type TaskTypeInput struct {
	Name         string                  `json:"name" yaml:"name" validate:"required"`
	Transactions []TransactionDescriptor `json:"transactions" yaml:"transactions" validate:"dive"`
}

// DefaultTaskType returns the task type every iteration creates unless the
// configuration provides another one
func DefaultTaskType() TaskTypeInput {
	return TaskTypeInput{
		Name: "k6 task type test",
		Transactions: []TransactionDescriptor{
			{Label: "k6_transaction_label"},
		},
	}
}

// TaskTypePage is one page of the task type listing
type TaskTypePage struct {
	Offset    int   `json:"offset" mapstructure:"offset"`
	Total     int   `json:"total" mapstructure:"total"`
	TaskTypes []any `json:"taskTypes" mapstructure:"taskTypes"`
}

// Len returns the number of entries on this page
func (p *TaskTypePage) Len() int {
	return len(p.TaskTypes)
}

// Truncated reports whether the collection holds more entries than this page
func (p *TaskTypePage) Truncated() bool {
	return p.Total > len(p.TaskTypes)
}

// TLSConfig contains TLS/mTLS settings for the target service
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"key_file,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecure_skip_verify,omitempty"`
}

// IsZero reports whether no TLS setting is configured
func (t *TLSConfig) IsZero() bool {
	return t == nil || (t.CertFile == "" && t.KeyFile == "" && t.CAFile == "" && !t.InsecureSkipVerify)
}
