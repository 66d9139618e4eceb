package registry

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/model"
)

const defaultDataCenterClass = "com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo"

// instancePayload Eureka注册报文
type instancePayload struct {
	XMLName          xml.Name       `xml:"instance"`
	InstanceID       string         `xml:"instanceId"`
	HostName         string         `xml:"hostName"`
	App              string         `xml:"app"`
	IPAddr           string         `xml:"ipAddr"`
	VIPAddress       string         `xml:"vipAddress"`
	SecureVIPAddress string         `xml:"secureVipAddress"`
	Status           string         `xml:"status"`
	Port             portPayload    `xml:"port"`
	SecurePort       portPayload    `xml:"securePort"`
	HomePageURL      string         `xml:"homePageUrl"`
	StatusPageURL    string         `xml:"statusPageUrl"`
	HealthCheckURL   string         `xml:"healthCheckUrl"`
	DataCenterInfo   dataCenterInfo `xml:"dataCenterInfo"`
	LeaseInfo        leaseInfo      `xml:"leaseInfo"`
}

type portPayload struct {
	Enabled bool `xml:"enabled,attr"`
	Value   int  `xml:",chardata"`
}

type dataCenterInfo struct {
	Class string `xml:"class,attr"`
	Name  string `xml:"name"`
}

type leaseInfo struct {
	RenewalIntervalInSecs int `xml:"renewalIntervalInSecs"`
	DurationInSecs        int `xml:"durationInSecs"`
}

// buildPayload 根据实例生成注册报文，ipAddr由调用方解析后传入
func buildPayload(inst *model.Instance, ipAddr string, renewal, duration time.Duration) ([]byte, error) {
	scheme := inst.Scheme()
	port := inst.ActivePort()
	base := fmt.Sprintf("%s://%s:%d", scheme, inst.HostName, port)

	payload := instancePayload{
		InstanceID:       inst.InstanceID(),
		HostName:         inst.HostName,
		App:              inst.AppName(),
		IPAddr:           ipAddr,
		VIPAddress:       inst.VIPAddress(),
		SecureVIPAddress: inst.VIPAddress(),
		Status:           inst.StatusOrDefault(),
		Port:             portPayload{Enabled: !inst.SSLPreferred, Value: inst.HTTPPort},
		SecurePort:       portPayload{Enabled: inst.SSLPreferred, Value: inst.SecurePort},
		HomePageURL:      base + "/",
		StatusPageURL:    base + inst.InfoPath(),
		HealthCheckURL:   base + inst.HealthPath(),
		DataCenterInfo: dataCenterInfo{
			Class: defaultDataCenterClass,
			Name:  inst.DataCenterOrDefault(),
		},
		LeaseInfo: leaseInfo{
			RenewalIntervalInSecs: int(renewal / time.Second),
			DurationInSecs:        int(duration / time.Second),
		},
	}

	body, err := xml.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化注册报文失败: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
