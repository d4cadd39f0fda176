package queryengine

import (
	"fmt"

	"github.com/opskb/ragd/internal/model"
)

func errUnknownSource(id model.SourceId) error {
	return fmt.Errorf("queryengine: no vector store configured for source %s", id)
}

func errBreakerOpen(id model.SourceId) error {
	return fmt.Errorf("queryengine: breaker open for source %s", id)
}
