package workunit

import (
	"encoding/json"

	"pkt.systems/eclkernel/schema"
)

type createRequest struct {
	QueryText string `json:"QueryText"`
	Jobname   string `json:"Jobname,omitempty"`
}

type createResponse struct {
	Workunit workunitInfo `json:"Workunit"`
}

type submitRequest struct {
	Wuid    string `json:"Wuid"`
	Cluster string `json:"Cluster"`
}

type infoRequest struct {
	Wuid                  string `json:"Wuid"`
	IncludeResults        bool   `json:"IncludeResults"`
	IncludeExceptions     bool   `json:"IncludeExceptions"`
	SuppressResultSchemas bool   `json:"SuppressResultSchemas"`
}

type infoResponse struct {
	Workunit workunitInfo `json:"Workunit"`
}

type workunitInfo struct {
	Wuid       string `json:"Wuid"`
	State      string `json:"State"`
	Jobname    string `json:"Jobname,omitempty"`
	Results    struct {
		ECLResult []resultInfo `json:"ECLResult"`
	} `json:"Results"`
	Exceptions struct {
		ECLException []schema.ECLException `json:"ECLException"`
	} `json:"Exceptions"`
}

type resultInfo struct {
	Name     string `json:"Name"`
	Sequence int    `json:"Sequence"`
	Total    int    `json:"Total"`
}

type resultRequest struct {
	Wuid     string `json:"Wuid"`
	Sequence int    `json:"Sequence"`
	Start    int    `json:"Start"`
	Count    int    `json:"Count"`
}

type resultResponse struct {
	Wuid     string                     `json:"Wuid"`
	Sequence int                        `json:"Sequence"`
	Start    int                        `json:"Start"`
	Count    int                        `json:"Count"`
	Total    int                        `json:"Total"`
	Result   map[string]json.RawMessage `json:"Result"`
}

type wuidList struct {
	Item []string `json:"Item"`
}

type wuidsRequest struct {
	Wuids wuidList `json:"Wuids"`
}

// rows extracts Result.<name>.Row. A missing result set yields no rows.
func (r resultResponse) rows(name string) ([]any, error) {
	raw, ok := r.Result[name]
	if !ok {
		for key, value := range r.Result {
			if key != "XmlSchema" {
				raw, ok = value, true
				break
			}
		}
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var set struct {
		Row []any `json:"Row"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	return set.Row, nil
}
