package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance() *Instance {
	return &Instance{
		ID:          "1",
		ServiceName: "order-service",
		HostName:    "order-1.internal",
		HTTPPort:    8080,
		SecurePort:  8443,
	}
}

func TestInstanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(i *Instance)
		wantErr bool
	}{
		{name: "有效实例", mutate: func(i *Instance) {}},
		{name: "缺少ID", mutate: func(i *Instance) { i.ID = "" }, wantErr: true},
		{name: "缺少服务名", mutate: func(i *Instance) { i.ServiceName = "" }, wantErr: true},
		{name: "缺少主机名", mutate: func(i *Instance) { i.HostName = "" }, wantErr: true},
		{name: "IP主机名", mutate: func(i *Instance) { i.HostName = "10.0.0.12" }},
		{name: "无效IP", mutate: func(i *Instance) { i.IPAddr = "not-an-ip" }, wantErr: true},
		{name: "端口越界", mutate: func(i *Instance) { i.HTTPPort = 70000 }, wantErr: true},
		{name: "HTTP端口为0", mutate: func(i *Instance) { i.HTTPPort = 0 }, wantErr: true},
		{name: "SSL优先但无安全端口", mutate: func(i *Instance) { i.SSLPreferred = true; i.SecurePort = 0 }, wantErr: true},
		{name: "健康检查路径不以/开头", mutate: func(i *Instance) { i.HealthEndpointPath = "health" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newTestInstance()
			tt.mutate(inst)
			err := inst.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	var nilInstance *Instance
	assert.Error(t, nilInstance.Validate())
}

func TestInstanceNaming(t *testing.T) {
	inst := newTestInstance()
	inst.ServiceName = "  order-service "

	assert.Equal(t, "ORDER-SERVICE", inst.AppName())
	assert.Equal(t, "order-service", inst.VIPAddress())
	assert.Equal(t, "order-1.internal:ORDER-SERVICE:8080", inst.InstanceID())
	assert.Equal(t, "http", inst.Scheme())

	inst.SSLPreferred = true
	assert.Equal(t, 8443, inst.ActivePort())
	assert.Equal(t, "https", inst.Scheme())
	assert.Equal(t, "order-1.internal:ORDER-SERVICE:8443", inst.InstanceID())

	inst.ServiceName = ""
	assert.Equal(t, "UNKNOWN", inst.AppName())
}

func TestInstanceDefaults(t *testing.T) {
	inst := newTestInstance()
	assert.Equal(t, DefaultStatus, inst.StatusOrDefault())
	assert.Equal(t, DefaultDataCenterInfoName, inst.DataCenterOrDefault())
	assert.Equal(t, DefaultHealthEndpointPath, inst.HealthPath())
	assert.Equal(t, DefaultInfoEndpointPath, inst.InfoPath())

	inst.Status = "STARTING"
	inst.InfoEndpointPath = "/info"
	assert.Equal(t, "STARTING", inst.StatusOrDefault())
	assert.Equal(t, "/info", inst.InfoPath())
}

func TestInstanceSameEndpointAndClone(t *testing.T) {
	inst := newTestInstance()
	assert.True(t, inst.SameEndpoint("ORDER-SERVICE", "ORDER-1.internal", 8080))
	assert.False(t, inst.SameEndpoint("order-service", "order-1.internal", 9090))

	c := inst.Clone()
	require.NotNil(t, c)
	c.HostName = "changed"
	assert.Equal(t, "order-1.internal", inst.HostName, "修改副本不应影响原实例")

	var nilInstance *Instance
	assert.Nil(t, nilInstance.Clone())
}
