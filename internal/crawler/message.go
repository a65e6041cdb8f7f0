package crawler

// DefaultSupplyAddressTopic is the output channel seed addresses are published to.
const DefaultSupplyAddressTopic = "supplyAddress-out-0"

// AddressSuppliedMessage hands one seed address of a started crawler to the
// execution fleet.
type AddressSuppliedMessage struct {
	CrawlerID string `json:"crawlerId"`
	Address   string `json:"address"`
}

// Key routes all addresses of a crawler to the same ordering key.
func (m AddressSuppliedMessage) Key() string {
	return m.CrawlerID
}
