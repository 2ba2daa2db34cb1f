package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Kind(val string) zap.Field {
	return zap.String("tracker.kind", val)
}

func EntityID(val string) zap.Field {
	return zap.String("tracker.entity_id", val)
}

func Action(val string) zap.Field {
	return zap.String("tracker.action", val)
}
