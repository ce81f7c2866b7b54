// Package metadata extracts contract particulars (number, date, parties,
// signers) from a bounded slice of the source document.
package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unknown marks a field that could not be found. Rendering replaces it with a
// placeholder; nothing ever substitutes a guess.
const Unknown = ""

type Field string

const (
	FieldContractNo     Field = "contract_no"
	FieldContractDate   Field = "contract_date"
	FieldIKZ            Field = "ikz"
	FieldProjectName    Field = "project_name"
	FieldCustomer       Field = "customer"
	FieldCustomerSigner Field = "customer_signer"
	FieldCustomerPost   Field = "customer_post"
	FieldExecutor       Field = "executor"
	FieldDirectorName   Field = "director_name"
	FieldDirectorPost   Field = "director_post"
)

// Schema is the ordered field list requested from the extraction service.
var Schema = []Field{
	FieldContractNo,
	FieldContractDate,
	FieldIKZ,
	FieldProjectName,
	FieldCustomer,
	FieldCustomerSigner,
	FieldCustomerPost,
	FieldExecutor,
	FieldDirectorName,
	FieldDirectorPost,
}

// nameFields go through FormatName after extraction.
var nameFields = map[Field]bool{
	FieldCustomerSigner: true,
	FieldDirectorName:   true,
}

// Contract is the fixed-shape metadata record.
type Contract struct {
	ContractNo     string `json:"contract_no"`
	ContractDate   string `json:"contract_date"`
	IKZ            string `json:"ikz"`
	ProjectName    string `json:"project_name"`
	Customer       string `json:"customer"`
	CustomerSigner string `json:"customer_signer"`
	CustomerPost   string `json:"customer_post"`
	Executor       string `json:"executor"`
	DirectorName   string `json:"director_name"`
	DirectorPost   string `json:"director_post"`
}

func (c *Contract) ref(f Field) *string {
	switch f {
	case FieldContractNo:
		return &c.ContractNo
	case FieldContractDate:
		return &c.ContractDate
	case FieldIKZ:
		return &c.IKZ
	case FieldProjectName:
		return &c.ProjectName
	case FieldCustomer:
		return &c.Customer
	case FieldCustomerSigner:
		return &c.CustomerSigner
	case FieldCustomerPost:
		return &c.CustomerPost
	case FieldExecutor:
		return &c.Executor
	case FieldDirectorName:
		return &c.DirectorName
	case FieldDirectorPost:
		return &c.DirectorPost
	}
	return nil
}

// Get returns Unknown for fields outside the schema.
func (c Contract) Get(f Field) string {
	if p := c.ref(f); p != nil {
		return *p
	}
	return Unknown
}

func (c *Contract) Set(f Field, v string) error {
	p := c.ref(f)
	if p == nil {
		return fmt.Errorf("unknown metadata field %q", f)
	}
	*p = strings.TrimSpace(v)
	return nil
}

// IsKnown reports whether f carries a real value.
func (c Contract) IsKnown(f Field) bool { return c.Get(f) != Unknown }

// Fields returns every schema field in order, unknown ones included.
func (c Contract) Fields() []KV {
	out := make([]KV, len(Schema))
	for i, f := range Schema {
		out[i] = KV{Field: f, Value: c.Get(f)}
	}
	return out
}

type KV struct {
	Field Field
	Value string
}

// Missing lists the fields still at Unknown.
func (c Contract) Missing() []Field {
	var out []Field
	for _, f := range Schema {
		if !c.IsKnown(f) {
			out = append(out, f)
		}
	}
	return out
}

// Merge overlays every known field of override onto c. A user edit wins over
// extraction; an override left blank keeps the extracted value.
func (c Contract) Merge(override Contract) Contract {
	out := c
	for _, f := range Schema {
		if v := override.Get(f); v != Unknown {
			_ = out.Set(f, v)
		}
	}
	return out
}

// ParseContract decodes user-supplied metadata JSON. Unknown keys are
// rejected so typos do not silently disappear.
func ParseContract(data []byte) (Contract, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Contract{}, fmt.Errorf("decode metadata: %w", err)
	}
	var c Contract
	for k, v := range raw {
		s, ok := v.(string)
		if v != nil && !ok {
			return Contract{}, fmt.Errorf("metadata field %q must be a string", k)
		}
		if err := c.Set(Field(k), s); err != nil {
			return Contract{}, err
		}
	}
	return c, nil
}
