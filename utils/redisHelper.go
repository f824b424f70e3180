package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
)

// remove AllowedActions:Role:id
func ClearPermissionCache(roleId int) error {
	return config.RemoveRedisKey("AllowedActions:Role:" + fmt.Sprint(roleId))
}

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// retrieve instance, returns nil when not cached
func RetrieveRedis[T any](id int) (*T, error) {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	var obj T
	exists, err := config.GetRedisObject(key, &obj)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &obj, nil
}

func RemoveRedis[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// store list of models, keyed by clan
func StoreRedisList[T any](obj any, clanId string) error {
	key := GetTypeName[T]() + "List:" + clanId
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// retrieve list of models, returns nil when not cached
func RetrieveRedisList[T any](clanId string) ([]*T, error) {
	key := GetTypeName[T]() + "List:" + clanId
	var list []*T
	exists, err := config.GetRedisObject(key, &list)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return list, nil
}

func RemoveRedisList[T any](clanId string) error {
	key := GetTypeName[T]() + "List:" + clanId
	return config.RemoveRedisKey(key)
}
