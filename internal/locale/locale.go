// Package locale holds the user-facing console strings. Log output
// stays in English; only the operator-facing banners and the batch
// summary are translated.
package locale

import "fmt"

const (
	Statistics        = "statistics"
	Successful        = "successful"
	Failed            = "failed"
	Skipped           = "skipped"
	TotalProcessed    = "total_processed"
	BatchCompleted    = "batch_completed"
	MonitorStarted    = "monitor_started"
	CombinedStarted   = "combined_started"
	StopInstructions  = "stop_instructions"
	IgnoreExistingOn  = "ignore_existing_enabled"
	FailureSuggestion = "failure_suggestion"
)

var messages = map[string]map[string]string{
	"en": {
		Statistics:        "Processing statistics:",
		Successful:        "  Successful: %d",
		Failed:            "  Failed: %d",
		Skipped:           "  Skipped: %d",
		TotalProcessed:    "  Total processed: %d",
		BatchCompleted:    "Batch processing completed",
		MonitorStarted:    "Monitoring for new images",
		CombinedStarted:   "Combined mode: processing existing images, then monitoring for new ones",
		StopInstructions:  "Press Ctrl+C to stop",
		IgnoreExistingOn:  "Existing descriptions will be overwritten",
		FailureSuggestion: "Some images failed. Check that the Ollama hosts are reachable and the model is loaded.",
	},
	"ru": {
		Statistics:        "Статистика обработки:",
		Successful:        "  Успешно: %d",
		Failed:            "  Ошибок: %d",
		Skipped:           "  Пропущено: %d",
		TotalProcessed:    "  Всего обработано: %d",
		BatchCompleted:    "Пакетная обработка завершена",
		MonitorStarted:    "Наблюдение за новыми изображениями",
		CombinedStarted:   "Комбинированный режим: обработка существующих изображений, затем наблюдение за новыми",
		StopInstructions:  "Нажмите Ctrl+C для остановки",
		IgnoreExistingOn:  "Существующие описания будут перезаписаны",
		FailureSuggestion: "Часть изображений не обработана. Проверьте доступность хостов Ollama и загрузку модели.",
	},
}

// T returns the message for key in lang, formatted with args. Unknown
// languages fall back to English; unknown keys return the key itself
// so a missing translation is visible instead of silent.
func T(lang, key string, args ...any) string {
	table, ok := messages[lang]
	if !ok {
		table = messages["en"]
	}
	format, ok := table[key]
	if !ok {
		format, ok = messages["en"][key]
		if !ok {
			return key
		}
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
