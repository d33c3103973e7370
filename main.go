package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	dryRun := flag.Bool("dry-run", false, "Step the campaign without launching a browser or sending anything")
	extract := flag.Bool("extract", false, "Run a contact extraction pass instead of a campaign")
	rebuild := flag.Bool("rebuild", false, "Rebuild the queue from the CSV even if pending work exists")
	reportOnly := flag.Bool("report", false, "Write the campaign report from persisted state and exit")
	flag.Parse()

	Logf("info", "Loading configuration from %s", *configPath)
	config, err := LoadConfig(*configPath)
	if err != nil {
		Logf("error", "Failed to load config: %v", err)
		os.Exit(1)
	}

	if err := InitLogger(config); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer CloseLogger()

	store, err := NewStateStore(config.Files.StatePath)
	if err != nil {
		Logf("error", "Failed to open campaign state: %v", err)
		os.Exit(1)
	}

	switch {
	case *reportOnly:
		if err := WriteCampaignReport(config.Files.ReportCSVPath, store.State()); err != nil {
			Logf("error", "Failed to write report: %v", err)
			os.Exit(1)
		}
	case *extract:
		if err := runExtraction(config); err != nil {
			Logf("error", "Extraction failed: %v", err)
			os.Exit(1)
		}
	default:
		if err := runCampaign(config, store, *dryRun, *rebuild); err != nil {
			Logf("error", "Campaign failed: %v", err)
			os.Exit(1)
		}
	}
}

func runCampaign(config *Config, store *StateStore, dryRun, rebuild bool) error {
	st := store.State()

	if rebuild || !st.HasPendingWork() {
		if config.Files.CSVPath == "" {
			return fmt.Errorf("no pending queue and no csv_path configured")
		}
		Logf("info", "Building queue from %s", config.Files.CSVPath)
		contacts, err := ParseCSV(config.Files.CSVPath)
		if err != nil {
			return fmt.Errorf("failed to parse CSV: %w", err)
		}

		var msgTemplate *MessageTemplate
		if config.Files.TemplatePath != "" {
			msgTemplate, err = LoadTemplate(config.Files.TemplatePath)
			if err != nil {
				return fmt.Errorf("failed to load template: %w", err)
			}
		}

		entries := BuildQueueEntries(contacts, msgTemplate)
		store.ApplySettings(&config.Campaign)
		if err := loadAttachment(store, config.Files.ImagePath); err != nil {
			return err
		}
		message := ""
		if msgTemplate != nil {
			message = msgTemplate.Content
		}
		if err := store.BuildQueue(entries, message); err != nil {
			return err
		}
		Logf("info", "Queue built: %d entries (%d valid)", len(entries), countValid(entries))
	} else {
		Logf("info", "Resuming existing queue: %d entries, cursor at %d", len(st.Queue), st.Index)
	}

	var sender Sender
	if dryRun {
		Log("info", "[DRY RUN] No browser will be launched, no messages will be sent")
		sender = &dryRunSender{}
	} else {
		client := NewClient(config)
		if err := client.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		defer client.Close()
		sender = NewChromeSender(client, store, config)
	}

	campaign := NewCampaign(store, sender)

	// Stop cleanly on Ctrl+C: the persisted record keeps queue and cursor so
	// the next run resumes where this one left off.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		Log("info", "Interrupt received, stopping campaign")
		campaign.Stop()
	}()

	startTime := time.Now()
	campaign.ResumeIfNeeded()
	if err := campaign.Start(); err != nil {
		return err
	}
	<-campaign.Done()

	final := store.State()
	Log("info", "=== Campaign Summary ===")
	Logf("info", "Total entries: %d", len(final.Queue))
	Logf("info", "Sent: %d", final.Stats.Sent)
	Logf("info", "Failed: %d", final.Stats.Failed)
	Logf("info", "Pending: %d", final.Stats.Pending)
	Logf("info", "Duration: %v", time.Since(startTime).Round(time.Second))

	for _, entry := range final.Queue {
		if entry.Status == StatusFailed {
			Logf("warn", "  - %s: %s", entry.Phone, entry.ErrorReason)
		}
	}

	if err := WriteCampaignReport(config.Files.ReportCSVPath, final); err != nil {
		Logf("warn", "Failed to write campaign report: %v", err)
	}
	return nil
}

func runExtraction(config *Config) error {
	client := NewClient(config)
	if err := client.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
	}
	defer client.Close()

	lastLogged := -1
	onProgress := func(ev ProgressEvent) {
		if ev.Paused {
			Log("info", "Extraction paused")
			return
		}
		if ev.Progress/config.Extraction.ProgressEveryPercent != lastLogged {
			lastLogged = ev.Progress / config.Extraction.ProgressEveryPercent
			Logf("info", "Extraction progress: %d%% (%d valid numbers)", ev.Progress, ev.Count)
		}
	}

	extractor := NewExtractor(&config.Extraction, client.Eval, client.EvalAsync, onProgress)

	if _, err := StartNetworkObserver(client, extractor, &config.Extraction); err != nil {
		Logf("warn", "Network observer unavailable: %v", err)
	}

	bridge := NewBridge(client, onProgress)
	if err := bridge.Install(); err != nil {
		Logf("warn", "Page bridge unavailable, relying on DOM and storage only: %v", err)
	} else {
		feedBridgeContacts(bridge, extractor)
	}

	results, err := extractor.Run(client.Context())
	if err != nil {
		return err
	}

	if err := WriteExtractionReport(config.Files.ExtractCSVPath, results); err != nil {
		return err
	}
	return nil
}

// feedBridgeContacts folds the bridge's contact enumeration into the record
// set as the strongest origin. Bridge failures degrade to the other sources.
func feedBridgeContacts(bridge *Bridge, extractor *Extractor) {
	contacts, err := bridge.ExtractContacts(30 * time.Second)
	if err != nil {
		Logf("warn", "Bridge contact enumeration failed: %v", err)
		return
	}
	Logf("info", "Bridge enumerated %d contacts", len(contacts))
	for _, contact := range contacts {
		typ := TypeNormal
		if contact.IsBlocked {
			typ = TypeBlocked
		}
		extractor.Observe(Candidate{Raw: contact.Number, Origin: OriginChatID, Type: typ})
	}
}

func loadAttachment(store *StateStore, imagePath string) error {
	st := store.State()
	if imagePath == "" {
		st.ImageData = ""
		st.ImageName = ""
		return nil
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}
	st.ImageData = base64.StdEncoding.EncodeToString(data)
	st.ImageName = filepath.Base(imagePath)
	Logf("info", "Attached image %s (%d bytes)", st.ImageName, len(data))
	return nil
}

func countValid(entries []QueueEntry) int {
	count := 0
	for _, entry := range entries {
		if entry.Valid {
			count++
		}
	}
	return count
}

// dryRunSender steps the full state machine without touching a browser.
type dryRunSender struct{}

func (d *dryRunSender) BeginSend(phone, message string, hasImage bool) error {
	if normalizePhone(phone) == "" {
		return fmt.Errorf("cannot normalize phone number %q", phone)
	}
	return nil
}

func (d *dryRunSender) CompleteSend(phone, message string, hasImage bool) (SendResult, error) {
	Logf("info", "[DRY RUN] Would send to %s: %.60s", phone, message)
	return SendResult{Sent: true}, nil
}
