// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// schemaBaseID prefixes the $id of every generated request schema.
const schemaBaseID = "https://lanconnect.dev/schemas/"

// requestTypes maps a schema name to the request body it describes.
var requestTypes = map[string]any{
	"register":        &RegisterRequest{},
	"login":           &LoginRequest{},
	"refresh":         &RefreshRequest{},
	"forgot-password": &ForgotPasswordRequest{},
	"reset-password":  &ResetPasswordRequest{},
	"mpesa-stk-push":  &MpesaSTKPushRequest{},
	"mpesa-query":     &MpesaQueryRequest{},
	"stripe-intent":   &StripeIntentRequest{},
}

// SchemaNames returns the names of all request schemas, sorted.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSchema returns the JSON Schema for the named request body.
func GenerateSchema(name string) ([]byte, error) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown request schema %q", name)
	}
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(schemaBaseID + name + ".schema.json")
	schema.Title = "LAN Connect " + name + " request"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// validator checks request bodies against the compiled request schemas.
type validator struct {
	once    sync.Once
	err     error
	schemas map[string]*jschema.Schema
}

func (v *validator) compile() error {
	v.once.Do(func() {
		c := jschema.NewCompiler()
		v.schemas = make(map[string]*jschema.Schema, len(requestTypes))
		for _, name := range SchemaNames() {
			data, err := GenerateSchema(name)
			if err != nil {
				v.err = err
				return
			}
			doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				v.err = fmt.Errorf("failed to parse schema %s: %w", name, err)
				return
			}
			url := name + ".json"
			if err := c.AddResource(url, doc); err != nil {
				v.err = fmt.Errorf("failed to add schema resource %s: %w", name, err)
				return
			}
			sch, err := c.Compile(url)
			if err != nil {
				v.err = fmt.Errorf("failed to compile schema %s: %w", name, err)
				return
			}
			v.schemas[name] = sch
		}
	})
	return v.err
}

// Validate parses body as JSON and checks it against the named schema. The
// returned error message is safe to show to clients.
func (v *validator) Validate(name string, body []byte) error {
	if err := v.compile(); err != nil {
		return err
	}
	sch, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return &requestError{message: "Invalid JSON body"}
	}
	if err := sch.Validate(doc); err != nil {
		return &requestError{message: describeValidation(err)}
	}
	return nil
}

// requestError is a malformed request body.
type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

// describeValidation reduces a schema failure to its first leaf cause.
func describeValidation(err error) string {
	ve, ok := err.(*jschema.ValidationError)
	if !ok {
		return "Invalid request body"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if req, ok := ve.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		return fmt.Sprintf("%s is required", req.Missing[0])
	}
	if len(ve.InstanceLocation) == 0 {
		return "Invalid request body"
	}
	return "Invalid value for " + strings.Join(ve.InstanceLocation, ".")
}
