package amocrm

// Deal is an immutable snapshot of a CRM lead, fetched once per sync
// operation and never cached.
type Deal struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Price             int64         `json:"price"`
	CreatedAt         int64         `json:"created_at"` // epoch seconds
	UpdatedAt         int64         `json:"updated_at"` // epoch seconds
	PipelineID        int64         `json:"pipeline_id"`
	StatusID          int64         `json:"status_id"`
	ResponsibleUserID int64         `json:"responsible_user_id"`
	IsDeleted         bool          `json:"is_deleted"`
	Embedded          *DealEmbedded `json:"_embedded"`
}

// DealEmbedded carries the related entity references embedded in a deal.
type DealEmbedded struct {
	Contacts  []EntityRef `json:"contacts"`
	Companies []EntityRef `json:"companies"`
}

// EntityRef is a bare reference to a related entity.
type EntityRef struct {
	ID int64 `json:"id"`
}

// ContactRefs returns the ids of the deal's linked contacts.
func (d *Deal) ContactRefs() []int64 {
	if d.Embedded == nil {
		return nil
	}
	ids := make([]int64, 0, len(d.Embedded.Contacts))
	for _, ref := range d.Embedded.Contacts {
		ids = append(ids, ref.ID)
	}
	return ids
}

// CompanyRefs returns the ids of the deal's linked companies.
func (d *Deal) CompanyRefs() []int64 {
	if d.Embedded == nil {
		return nil
	}
	ids := make([]int64, 0, len(d.Embedded.Companies))
	for _, ref := range d.Embedded.Companies {
		ids = append(ids, ref.ID)
	}
	return ids
}

// Pipeline is a CRM workflow with its ordered stages.
type Pipeline struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Statuses []Status `json:"statuses"`
}

// Status is a single stage within a pipeline.
type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a CRM responsible user.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Contact is a CRM contact with its custom field values.
type Contact struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	CustomFieldValues []CustomField `json:"custom_fields_values"`
}

// Company is a CRM company.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CustomField is one custom field on a contact.
type CustomField struct {
	FieldName string             `json:"field_name"`
	FieldCode string             `json:"field_code"`
	Values    []CustomFieldValue `json:"values"`
}

// CustomFieldValue is one value of a custom field.
type CustomFieldValue struct {
	Value string `json:"value"`
}

// customFieldValue returns the first value of the field matching either name
// or code, or "" when absent.
func (c *Contact) customFieldValue(name, code string) string {
	for _, f := range c.CustomFieldValues {
		if f.FieldName != name && f.FieldCode != code {
			continue
		}
		if len(f.Values) > 0 {
			return f.Values[0].Value
		}
	}
	return ""
}

// Phone returns the contact's phone number from custom fields, or "".
func (c *Contact) Phone() string {
	return c.customFieldValue("Телефон", "PHONE")
}

// Email returns the contact's email from custom fields, or "".
func (c *Contact) Email() string {
	return c.customFieldValue("Email", "EMAIL")
}
