package route

import (
	"database/sql"
	"encoding/json"
)

func encodeFilterRules(f *FilterRules) (interface{}, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeFilterRules(ns sql.NullString) (*FilterRules, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var f FilterRules
	if err := json.Unmarshal([]byte(ns.String), &f); err != nil {
		return nil, err
	}
	return NormalizeFilterRules(&f), nil
}
