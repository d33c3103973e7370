package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

var (
	logLevel    string
	logFile     *os.File
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errLogger   *log.Logger
)

var levelPriority = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

func isValidLogLevel(level string) bool {
	_, ok := levelPriority[strings.ToLower(level)]
	return ok
}

func InitLogger(config *Config) error {
	logLevel = strings.ToLower(config.Logging.Level)

	// Open log file if specified
	if config.Logging.OutputFile != "" {
		var err error
		logFile, err = os.OpenFile(config.Logging.OutputFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}

	flags := log.Ldate | log.Ltime
	out := logFile
	if out == nil {
		debugLogger = log.New(os.Stdout, "[DEBUG] ", flags)
		infoLogger = log.New(os.Stdout, "[INFO] ", flags)
		warnLogger = log.New(os.Stdout, "[WARN] ", flags)
		errLogger = log.New(os.Stderr, "[ERROR] ", flags)
		return nil
	}
	debugLogger = log.New(out, "[DEBUG] ", flags)
	infoLogger = log.New(out, "[INFO] ", flags)
	warnLogger = log.New(out, "[WARN] ", flags)
	errLogger = log.New(out, "[ERROR] ", flags)
	return nil
}

func CloseLogger() {
	if logFile != nil {
		logFile.Close()
	}
}

func Log(level, message string) {
	level = strings.ToLower(level)

	configuredPriority, ok := levelPriority[logLevel]
	if !ok {
		configuredPriority = levelPriority["info"]
	}
	if levelPriority[level] < configuredPriority {
		return // Skip logging
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	formattedMsg := fmt.Sprintf("[%s] %s", timestamp, message)

	switch level {
	case "debug":
		if debugLogger != nil && logFile != nil {
			debugLogger.Println(message)
		}
		fmt.Println(formattedMsg)
	case "info":
		if infoLogger != nil && logFile != nil {
			infoLogger.Println(message)
		}
		fmt.Println(formattedMsg)
	case "warn":
		if warnLogger != nil && logFile != nil {
			warnLogger.Println(message)
		}
		fmt.Println(formattedMsg)
	case "error":
		if errLogger != nil && logFile != nil {
			errLogger.Println(message)
		}
		fmt.Fprintln(os.Stderr, formattedMsg)
	}
}

func Logf(level, format string, args ...interface{}) {
	Log(level, fmt.Sprintf(format, args...))
}
