package gateway

type createRequest struct {
	InstanceName string `json:"instanceName"`
	Number       string `json:"number,omitempty"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration,omitempty"`
}

// connectionStateResponse accepts both the flat {"state": ...} shape and the
// {"instance": {"state": ...}} shape.
type connectionStateResponse struct {
	State    string `json:"state"`
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

func (r connectionStateResponse) rawState() string {
	if r.Instance.State != "" {
		return r.Instance.State
	}
	return r.State
}
