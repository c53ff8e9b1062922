package services

// TransportServiceImpl implements TransportService
type TransportServiceImpl struct {
	hub Hub
}

// NewTransportService creates a new transport service
func NewTransportService(hub Hub) TransportService {
	return &TransportServiceImpl{
		hub: hub,
	}
}

// ListTransports returns all transport information
func (ts *TransportServiceImpl) ListTransports() ([]TransportInfo, error) {
	metas := ts.hub.Stats().Transports
	result := make([]TransportInfo, 0, len(metas))

	for i, meta := range metas {
		result = append(result, convertTransportMeta(i, meta))
	}

	return result, nil
}

// GetTransport returns a specific transport by index
func (ts *TransportServiceImpl) GetTransport(index int) (*TransportInfo, error) {
	metas := ts.hub.Stats().Transports
	if index < 0 || index >= len(metas) {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Transport index out of range",
		}
	}

	info := convertTransportMeta(index, metas[index])
	return &info, nil
}

// GetStatus returns the hub counters
func (ts *TransportServiceImpl) GetStatus() StatusInfo {
	stats := ts.hub.Stats()
	return StatusInfo{
		Name:       stats.Name,
		Advertised: stats.Advertised,
		Viewers:    stats.Connected,
		Accepted:   stats.NumClients,
		Writes:     stats.NumWrites,
		Backends:   stats.Backends,
		Transports: len(stats.Transports),
	}
}
