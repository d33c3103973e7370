package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

type Contact struct {
	Name        string
	PhoneNumber string
	Fields      map[string]string // Dynamic fields from CSV
}

// ParseCSV reads the campaign input list. Only the phone column is required;
// rows with an unusable number are still returned so the queue can carry them
// as flagged-invalid entries instead of silently dropping them.
func ParseCSV(filePath string) ([]Contact, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	// Parse header
	header := records[0]
	nameIdx := -1
	phoneIdx := -1

	normalizedHeaders := make([]string, len(header))
	for i, col := range header {
		normalizedHeaders[i] = strings.TrimSpace(col)
		colLower := strings.ToLower(normalizedHeaders[i])
		switch colLower {
		case "name", "nome":
			nameIdx = i
		case "phone_number", "phone", "number", "numero", "telefone":
			phoneIdx = i
		}
	}

	if phoneIdx == -1 {
		return nil, fmt.Errorf("CSV must contain a 'phone_number' column")
	}

	contacts := make([]Contact, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := records[i]

		if len(row) <= phoneIdx {
			Logf("warn", "Row %d has insufficient columns, skipping", i+1)
			continue
		}
		phone := strings.TrimSpace(row[phoneIdx])
		if phone == "" {
			continue // Skip empty rows
		}

		contact := Contact{
			PhoneNumber: phone,
			Fields:      make(map[string]string),
		}
		if nameIdx != -1 && len(row) > nameIdx {
			contact.Name = strings.TrimSpace(row[nameIdx])
		}

		// Parse all additional fields (excluding name and phone)
		for j, value := range row {
			if j == nameIdx || j == phoneIdx || j >= len(normalizedHeaders) {
				continue
			}
			fieldName := normalizedHeaders[j]
			if len(fieldName) > 0 {
				// Capitalize first letter: "value" -> "Value"
				fieldName = strings.ToUpper(fieldName[:1]) + fieldName[1:]
			}
			contact.Fields[fieldName] = strings.TrimSpace(value)
		}

		contacts = append(contacts, contact)
	}

	return contacts, nil
}

// BuildQueueEntries validates each contact and renders its message. Invalid
// numbers stay in the queue flagged invalid; the state machine marks them
// failed without ever dispatching them.
func BuildQueueEntries(contacts []Contact, msgTemplate *MessageTemplate) []QueueEntry {
	entries := make([]QueueEntry, 0, len(contacts))
	for _, contact := range contacts {
		entry := QueueEntry{
			Status: StatusPending,
		}

		valid, reason := validatePhone(contact.PhoneNumber)
		if valid {
			entry.Phone = normalizePhone(contact.PhoneNumber)
			entry.Valid = true
		} else {
			entry.Phone = sanitizePhone(contact.PhoneNumber)
			entry.Valid = false
			entry.ErrorReason = reason
		}

		if msgTemplate != nil {
			rendered, err := msgTemplate.Render(contact)
			if err != nil {
				Logf("warn", "Failed to render message for %s: %v", contact.PhoneNumber, err)
			} else {
				entry.CustomMessage = rendered
			}
		} else if msg, ok := contact.Fields["Message"]; ok && msg != "" {
			// A message column overrides the shared campaign message when no
			// template is configured.
			entry.CustomMessage = msg
		}

		entries = append(entries, entry)
	}
	return entries
}
