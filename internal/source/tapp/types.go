package tapp

// Wire types for the TAPP public API and the CLMM view module.

type apiToken struct {
	Addr     string `json:"addr"`
	Decimals int32  `json:"decimals"`
	Img      string `json:"img"`
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
}

type apiPool struct {
	PoolID     string         `json:"poolId"`
	PoolType   string         `json:"poolType"`
	FeeTier    string         `json:"feeTier"`
	TVL        string         `json:"tvl"`
	APR        apiAPR         `json:"apr"`
	Tokens     []apiPoolToken `json:"tokens"`
	VolumeData apiVolumeData  `json:"volumeData"`
}

type apiAPR struct {
	BoostedAPRPercentage float64 `json:"boostedAprPercentage"`
	FeeAPRPercentage     float64 `json:"feeAprPercentage"`
	TotalAPRPercentage   float64 `json:"totalAprPercentage"`
}

type apiPoolToken struct {
	Addr   string `json:"addr"`
	Img    string `json:"img"`
	Symbol string `json:"symbol"`
}

type apiVolumeData struct {
	Volume24h     float64 `json:"volume24h"`
	Volume7d      float64 `json:"volume7d"`
	Volume30d     float64 `json:"volume30d"`
	VolumePrev24h float64 `json:"volumeprev24h"`
}

type tickIndex struct {
	Bits string `json:"bits"`
}

type chainPosition struct {
	Index          string    `json:"index"`
	Liquidity      string    `json:"liquidity"`
	TickLowerIndex tickIndex `json:"tick_lower_index"`
	TickUpperIndex tickIndex `json:"tick_upper_index"`
}

type pageQuery struct {
	PoolType string `json:"poolType,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}
