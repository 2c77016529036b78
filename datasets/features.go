package datasets

import "time"

// Context feature names. They double as the embedding names in the model
// configuration.
const (
	OriginCallFeature  = "origin_call"
	OriginStandFeature = "origin_stand"
	TaxiIDFeature      = "taxi_id"
	WeekOfYearFeature  = "week_of_year"
	DayOfWeekFeature   = "day_of_week"
	QHourOfDayFeature  = "qhour_of_day"
	DayTypeFeature     = "day_type"
)

// bucket maps an identifier onto [0, vocab). 0 is reserved for missing.
func bucket(id int64, vocab int) int32 {
	if id <= 0 || vocab <= 1 {
		return 0
	}
	return int32(1 + (id-1)%int64(vocab-1))
}

func clampIndex(i, vocab int) int32 {
	if i < 0 {
		return 0
	}
	if i >= vocab {
		return int32(vocab - 1)
	}
	return int32(i)
}

// ContextFeatures computes the categorical features of t for every name in
// vocab, each as an index in [0, vocab[name]). Names vocab does not list are
// skipped; unknown names map to 0.
func ContextFeatures(t *Trip, vocab map[string]int) map[string]int32 {
	ts := time.Unix(t.Timestamp, 0).UTC()
	out := make(map[string]int32, len(vocab))
	for name, v := range vocab {
		switch name {
		case OriginCallFeature:
			out[name] = bucket(t.OriginCall, v)
		case OriginStandFeature:
			out[name] = bucket(t.OriginStand, v)
		case TaxiIDFeature:
			out[name] = bucket(t.TaxiID, v)
		case WeekOfYearFeature:
			_, week := ts.ISOWeek()
			out[name] = clampIndex(week-1, v)
		case DayOfWeekFeature:
			out[name] = clampIndex((int(ts.Weekday())+6)%7, v)
		case QHourOfDayFeature:
			out[name] = clampIndex(ts.Hour()*4+ts.Minute()/15, v)
		case DayTypeFeature:
			idx := 0
			if len(t.DayType) == 1 && t.DayType[0] >= 'A' && t.DayType[0] <= 'Z' {
				idx = int(t.DayType[0] - 'A')
			}
			out[name] = clampIndex(idx, v)
		default:
			out[name] = 0
		}
	}
	return out
}
