package gateway

var EncodeNotification = encodeNotification
