package messaging

// Queue Names
const (
	// MediaGenerationTaskQueue - очередь задач генерации медиа артефактов.
	MediaGenerationTaskQueue = "media_generation_tasks"
	// MediaGenerationResultQueue - очередь результатов генерации.
	MediaGenerationResultQueue = "media_generation_results"
)
