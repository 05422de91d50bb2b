package chains

var (
	eth   = Currency{Name: "Ether", Symbol: "ETH", Decimals: 18}
	matic = Currency{Name: "MATIC", Symbol: "MATIC", Decimals: 18}
	bnb   = Currency{Name: "BNB", Symbol: "BNB", Decimals: 18}
	avax  = Currency{Name: "AVAX", Symbol: "AVAX", Decimals: 18}

	// Mapping holds currency and explorer data for chains the widget commonly meets.
	// RPC urls always come from config.
	Mapping = map[uint64]*Network{
		1:     {ChainID: 1, Name: "Ethereum Mainnet", Currency: eth, ExplorerURL: "https://etherscan.io"},
		5:     {ChainID: 5, Name: "Goerli", Currency: eth, ExplorerURL: "https://goerli.etherscan.io"},
		10:    {ChainID: 10, Name: "Optimism", Currency: eth, ExplorerURL: "https://optimistic.etherscan.io"},
		56:    {ChainID: 56, Name: "BNB Smart Chain", Currency: bnb, ExplorerURL: "https://bscscan.com"},
		97:    {ChainID: 97, Name: "BNB Smart Chain Testnet", Currency: bnb, ExplorerURL: "https://testnet.bscscan.com"},
		137:   {ChainID: 137, Name: "Polygon Mainnet", Currency: matic, ExplorerURL: "https://polygonscan.com"},
		42161: {ChainID: 42161, Name: "Arbitrum One", Currency: eth, ExplorerURL: "https://arbiscan.io"},
		43113: {ChainID: 43113, Name: "Avalanche Fuji", Currency: avax, ExplorerURL: "https://testnet.snowtrace.io"},
		43114: {ChainID: 43114, Name: "Avalanche", Currency: avax, ExplorerURL: "https://snowtrace.io"},
		80001: {ChainID: 80001, Name: "Mumbai", Currency: matic, ExplorerURL: "https://mumbai.polygonscan.com"},
	}
)
