package models

// Record is a decoded JSON object as exchanged with callers and the backend.
// Numbers are kept as json.Number so that re-encoding preserves their text.
type Record = map[string]any

// DataHeader is the fixed header of every response envelope.
type DataHeader struct {
	ResultCode    string `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
	ProcessFlag   string `json:"processFlag"`
	Category      string `json:"category"`
	ContKey       string `json:"contKey,omitempty"`
}

// Envelope is the external response shape returned for every transaction.
type Envelope struct {
	DataHeader DataHeader `json:"dataHeader"`
	DataBody   Record     `json:"dataBody"`
}

// SuccessHeader returns the header attached to every successful envelope.
func SuccessHeader() DataHeader {
	return DataHeader{
		ResultCode:    "200",
		ResultMessage: "정상",
		ProcessFlag:   "A",
		Category:      "API",
	}
}

// FailureEnvelope builds the envelope returned when a transaction fails.
func FailureEnvelope(message string) Envelope {
	return Envelope{
		DataHeader: DataHeader{
			ResultCode:    "500",
			ResultMessage: message,
			ProcessFlag:   "E",
			Category:      "API",
		},
		DataBody: Record{},
	}
}
