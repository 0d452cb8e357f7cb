package eventrelay

import "github.com/overtonx/eventrelay/embedded"

type (
	Message          = embedded.Message
	Publisher        = embedded.Publisher
	MetricsCollector = embedded.MetricsCollector
	Worker           = embedded.Worker
)
