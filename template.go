package main

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

type MessageTemplate struct {
	tmpl    *template.Template
	Content string // Raw template content
}

func LoadTemplate(filePath string) (*MessageTemplate, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return ParseTemplate(string(content))
}

func ParseTemplate(content string) (*MessageTemplate, error) {
	tmpl, err := template.New("message").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &MessageTemplate{tmpl: tmpl, Content: content}, nil
}

// Render fills the template with the contact's standard and dynamic fields.
func (mt *MessageTemplate) Render(contact Contact) (string, error) {
	data := make(map[string]interface{}, len(contact.Fields)+2)
	data["Name"] = contact.Name
	data["PhoneNumber"] = contact.PhoneNumber
	for key, value := range contact.Fields {
		data[key] = value
	}

	var buf bytes.Buffer
	if err := mt.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}
